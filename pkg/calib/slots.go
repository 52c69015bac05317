package calib

// Slot identifies one of the four fixed camera positions. The numeric
// value of a slot is its index into the calibration document's camera
// list.
type Slot int

const (
	SlotFront Slot = 0
	SlotLeft  Slot = 1
	SlotRear  Slot = 2
	SlotRight Slot = 3
)

// slotNames is the fixed name-to-index table; the folder layout on
// disk uses exactly these names.
var slotNames = [...]string{
	SlotFront: "front",
	SlotLeft:  "left",
	SlotRear:  "rear",
	SlotRight: "right",
}

// Slots returns all camera slots in index order.
func Slots() []Slot {
	return []Slot{SlotFront, SlotLeft, SlotRear, SlotRight}
}

// SlotNames returns the folder names of all slots in index order.
func SlotNames() []string {
	names := make([]string, len(slotNames))
	copy(names, slotNames[:])
	return names
}

// SlotByName maps a folder name to its camera slot.
func SlotByName(name string) (Slot, bool) {
	for i, n := range slotNames {
		if n == name {
			return Slot(i), true
		}
	}
	return 0, false
}

// String returns the folder name of the slot.
func (s Slot) String() string {
	if s < 0 || int(s) >= len(slotNames) {
		return "unknown"
	}
	return slotNames[s]
}
