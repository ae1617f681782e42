package progress

// RoomPlan is one entry of the fixed room-order table. Completing every
// puzzle of the last entry is victory.
type RoomPlan struct {
	ID        string
	PuzzleIDs []string
}

// DefaultPlan mirrors the shipped game content: three rooms, two puzzles
// each, played in order.
func DefaultPlan() []RoomPlan {
	return []RoomPlan{
		{ID: "antechamber", PuzzleIDs: []string{"wires", "keypad"}},
		{ID: "laboratory", PuzzleIDs: []string{"chemicals", "microscope"}},
		{ID: "vault", PuzzleIDs: []string{"dial", "lockbox"}},
	}
}
