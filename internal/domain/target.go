package domain

type TargetKind string

const (
	TargetStore    TargetKind = "store"
	TargetCampaign TargetKind = "campaign"
)

// Target is the domain entity a setup pipeline completes.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}
