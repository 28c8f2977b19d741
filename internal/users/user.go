package users

import "time"

// User is an add-in user keyed by the Microsoft Entra object id from the ID
// token. Users are created lazily on first successful authentication and are
// never deleted by this subsystem.
type User struct {
	ID        string    `bson:"_id" json:"id"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}
