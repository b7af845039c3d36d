package subscription

// Generation identifies which data model owns a subscription.
type Generation string

const (
	// GenerationCurrent is the per-workspace model.
	GenerationCurrent Generation = "workspace"
	// GenerationLegacy is the pre-migration per-user model.
	GenerationLegacy Generation = "user"
)

// Owner is the tagged union Legacy(userID) | Current(workspaceID).
// The zero value owns nothing.
type Owner struct {
	gen Generation
	id  string
}

// CurrentOwner returns the owner for a workspace-scoped subscription.
func CurrentOwner(workspaceID string) Owner {
	if workspaceID == "" {
		return Owner{}
	}
	return Owner{gen: GenerationCurrent, id: workspaceID}
}

// LegacyOwner returns the owner for a user-scoped (pre-migration) subscription.
func LegacyOwner(userID string) Owner {
	if userID == "" {
		return Owner{}
	}
	return Owner{gen: GenerationLegacy, id: userID}
}

func (o Owner) Generation() Generation { return o.gen }
func (o Owner) ID() string             { return o.id }
func (o Owner) IsZero() bool           { return o.id == "" }
func (o Owner) IsLegacy() bool         { return o.gen == GenerationLegacy }

func (o Owner) String() string {
	if o.IsZero() {
		return "none"
	}
	return string(o.gen) + ":" + o.id
}
