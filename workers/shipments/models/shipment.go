package models

// Shipment is a snapshot of a shipment as returned by the dispatch server.
// Snapshots are never mutated locally; a status change is requested from the
// server and observed on the next poll.
type Shipment struct {
	ID                ID     `json:"shipmentID"`
	CurrentStatus     string `json:"currentStatus"`
	LoadingDate       string `json:"loadingDate,omitempty"`
	DeliveryDate      string `json:"deliveryDate,omitempty"`
	CreationTimestamp string `json:"creationTimestamp,omitempty"`

	// Display fields, carried through untouched
	DestName     string `json:"destName,omitempty"`
	DestLocation string `json:"destLocation,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

func (s Shipment) IsCompleted() bool {
	return s.CurrentStatus == StatusCompleted
}
