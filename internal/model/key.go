package model

// AccountKey is the document key of an Account, which changes representation
// over the account's life: normalized email during the pending phase, the
// Identity Provider UID once active. Making the two cases a distinct type
// keeps the rekeying transition explicit instead of inferred from whether a
// string "looks like" an email.
//
// The zero AccountKey is invalid; construct through KeyByEmail or KeyByUID.
type AccountKey struct {
	email string
	uid   string
}

// KeyByEmail keys a pending account document by its normalized email.
func KeyByEmail(email string) AccountKey {
	return AccountKey{email: email}
}

// KeyByUID keys an active account document by its Identity Provider UID.
func KeyByUID(uid string) AccountKey {
	return AccountKey{uid: uid}
}

// IsUID reports whether the key is the durable UID form.
func (k AccountKey) IsUID() bool {
	return k.uid != ""
}

// String returns the raw document key.
func (k AccountKey) String() string {
	if k.uid != "" {
		return k.uid
	}
	return k.email
}
