package guid

// Well-known partition type GUIDs consumed by pkg/partition and
// pkg/flasher when building or recognizing a GPT layout (§3 "GPT
// layout", §6 "EFI System Partition entry spans...").
var (
	// ESP is the EFI System Partition type GUID. pkg/partition's GPT
	// builder (used by pkg/flasher) stamps the entry it writes with this
	// value.
	ESP = *MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B")

	// BasicData is the Microsoft basic-data partition type GUID. No
	// package in this module reads or writes it.
	BasicData = *MustParse("EBD0A0A2-B9E5-4433-87C0-68B6B72699C7")
)

// IsZero reports whether u is the all-zero GUID, used by pkg/partition to
// recognize an unused GPT entry slot.
func (u GUID) IsZero() bool {
	for _, b := range u {
		if b != 0 {
			return false
		}
	}
	return true
}
