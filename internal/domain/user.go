package domain

import "time"

// User is the identity record behind an account. Email is the natural key
// and is unique across all users.
type User struct {
	ID           int64
	Email        string
	Name         string
	NationalID   *string
	PhoneNumber  *string
	Address      *string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserProfileUpdate carries a partial profile edit. Absent fields are left
// unchanged; a present field holding nil clears the stored value.
type UserProfileUpdate struct {
	Name        Optional[string]
	NationalID  Optional[string]
	PhoneNumber Optional[string]
	Address     Optional[string]
}

// IsEmpty reports whether the update touches no field at all.
func (u UserProfileUpdate) IsEmpty() bool {
	return !u.Name.Present && !u.NationalID.Present && !u.PhoneNumber.Present && !u.Address.Present
}

// ApplyTo merges the update into user in place. The name is mandatory, so a
// present-but-null name is ignored by the merge and rejected earlier by
// request validation.
func (u UserProfileUpdate) ApplyTo(user *User) {
	if u.Name.Present && u.Name.Value != nil {
		user.Name = *u.Name.Value
	}
	u.NationalID.MergeInto(&user.NationalID)
	u.PhoneNumber.MergeInto(&user.PhoneNumber)
	u.Address.MergeInto(&user.Address)
}
