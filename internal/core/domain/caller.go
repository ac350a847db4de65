package domain

// Caller is the verified identity attached to every request by the
// upstream authentication gateway.
type Caller struct {
	UserID string
	Admin  bool
}

// SystemCaller is used by background policies such as the idle sweeper.
var SystemCaller = Caller{UserID: "system", Admin: true}

func (c Caller) Owns(o Order) bool {
	return c.UserID != "" && c.UserID == o.UserID
}
