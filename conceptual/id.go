package conceptual

// TripID identifies the trip a track file belongs to.
// Trips are owned by an external system; trackd only references them.
type TripID string

func (t TripID) String() string {
	return string(t)
}

func (t TripID) IsEmpty() bool {
	return t == ""
}
