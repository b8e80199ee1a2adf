// Package model defines the data structures used throughout the application.
package model

import (
	"time"

	"github.com/sakif/pathfit-backend/internal/docstore"
)

// Collection names for the documents this package models.
const (
	UsersCollection           = "users"
	DeletedAccountsCollection = "deletedAccounts"
	AutoDeletionsCollection   = "autoDeletions"
	CourseQuizzesCollection   = "courseQuizzes"
)

// AccountStatus is the lifecycle state of an Account.
type AccountStatus string

const (
	StatusPending AccountStatus = "pending"
	StatusActive  AccountStatus = "active"
)

// Account is the unified identity+profile record for a registered end user.
//
// While pending, the document is keyed by normalized email and carries the
// verification sub-state (code, expiry, resend counters) plus the bcrypt
// password hash that will seed the identity account. Once active, the
// document is keyed by the Identity Provider UID, the verification fields
// and hash are stripped, and the login sub-state (attempt counters, streak)
// takes over. Exactly one active Account exists per normalized email.
type Account struct {
	// Identity
	UID    string
	Email  string // always lowercased and trimmed
	Status AccountStatus

	// Profile
	FirstName  string
	MiddleName string
	LastName   string
	FullName   string
	Age        int
	Gender     string
	Course     string
	Year       string
	Section    string
	Height     float64
	Weight     float64
	BMI        float64
	BMIResult  string
	Role       string
	IsStudent  bool

	// Verification sub-state (pending only)
	PasswordHash       string
	VerificationCode   string
	VerificationExpiry time.Time
	ResendCount        int
	LastResendTime     time.Time

	// Login sub-state (active only)
	LoginAttempts    int
	LastLoginAttempt time.Time // zero when cleared
	LoginStreak      int
	TotalLogins      int
	LastLogin        time.Time // zero before first login
	LastLoginAt      time.Time // stamped by profile sync

	// Bookkeeping
	EmailVerified    bool
	IsActive         bool
	ProfileCompleted bool
	IsNewUser        bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	VerifiedAt       time.Time

	Preferences Preferences
}

// Preferences are the client-side defaults stored with every account.
type Preferences struct {
	Theme         string
	Notifications bool
	Language      string
}

// DefaultPreferences are applied at registration.
func DefaultPreferences() Preferences {
	return Preferences{Theme: "light", Notifications: true, Language: "en"}
}

// DisplayName is the name shown to the client: "First Last".
func (a *Account) DisplayName() string {
	if a.FirstName == "" && a.LastName == "" {
		return a.FullName
	}
	name := a.FirstName
	if a.LastName != "" {
		if name != "" {
			name += " "
		}
		name += a.LastName
	}
	return name
}

// Activate returns the active form of a pending account: keyed by uid,
// verification sub-state and password hash stripped, login counters zeroed,
// bookkeeping stamped. The receiver is not modified.
func (a *Account) Activate(uid string, now time.Time) *Account {
	active := *a
	active.UID = uid
	active.Status = StatusActive
	active.EmailVerified = true
	active.IsActive = true
	active.IsNewUser = true
	active.PasswordHash = ""
	active.VerificationCode = ""
	active.VerificationExpiry = time.Time{}
	active.ResendCount = 0
	active.LastResendTime = time.Time{}
	active.LoginAttempts = 0
	active.LastLoginAttempt = time.Time{}
	active.LoginStreak = 0
	active.TotalLogins = 0
	active.LastLogin = time.Time{}
	active.CreatedAt = now
	active.UpdatedAt = now
	active.VerifiedAt = now
	return &active
}

// Key returns the document key the account must live under given its state:
// email while pending, UID once active.
func (a *Account) Key() AccountKey {
	if a.Status == StatusActive {
		return KeyByUID(a.UID)
	}
	return KeyByEmail(a.Email)
}

// putTime stores t under field, or omits the field entirely when t is zero,
// so "never happened" reads back as the zero time rather than year 1 noise.
func putTime(data map[string]any, field string, t time.Time) {
	if t.IsZero() {
		return
	}
	data[field] = docstore.EncodeTime(t)
}

// ToDoc flattens the account into a document field map. Zero timestamps are
// omitted; the password hash and verification fields are only present while
// they are set, which is how stripping works on activation.
func (a *Account) ToDoc() map[string]any {
	data := map[string]any{
		"email":            a.Email,
		"firstName":        a.FirstName,
		"middleName":       a.MiddleName,
		"lastName":         a.LastName,
		"fullName":         a.FullName,
		"age":              a.Age,
		"gender":           a.Gender,
		"course":           a.Course,
		"year":             a.Year,
		"section":          a.Section,
		"height":           a.Height,
		"weight":           a.Weight,
		"bmi":              a.BMI,
		"bmiResult":        a.BMIResult,
		"role":             a.Role,
		"isStudent":        a.IsStudent,
		"accountStatus":    string(a.Status),
		"emailVerified":    a.EmailVerified,
		"isActive":         a.IsActive,
		"profileCompleted": a.ProfileCompleted,
		"isNewUser":        a.IsNewUser,
		"loginAttempts":    a.LoginAttempts,
		"loginStreak":      a.LoginStreak,
		"totalLogins":      a.TotalLogins,
		"resendCount":      a.ResendCount,
		"preferences": map[string]any{
			"theme":         a.Preferences.Theme,
			"notifications": a.Preferences.Notifications,
			"language":      a.Preferences.Language,
		},
	}
	if a.UID != "" {
		data["uid"] = a.UID
	}
	if a.PasswordHash != "" {
		data["passwordHash"] = a.PasswordHash
	}
	if a.VerificationCode != "" {
		data["verificationCode"] = a.VerificationCode
	}
	putTime(data, "verificationExpiry", a.VerificationExpiry)
	putTime(data, "lastResendTime", a.LastResendTime)
	putTime(data, "lastLoginAttempt", a.LastLoginAttempt)
	putTime(data, "lastLogin", a.LastLogin)
	putTime(data, "lastLoginAt", a.LastLoginAt)
	putTime(data, "createdAt", a.CreatedAt)
	putTime(data, "updatedAt", a.UpdatedAt)
	putTime(data, "verifiedAt", a.VerifiedAt)
	return data
}

// AccountFromDoc rebuilds an Account from a stored document.
func AccountFromDoc(doc *docstore.Document) *Account {
	d := doc.Data
	a := &Account{
		UID:                docstore.String(d, "uid"),
		Email:              docstore.String(d, "email"),
		Status:             AccountStatus(docstore.String(d, "accountStatus")),
		FirstName:          docstore.String(d, "firstName"),
		MiddleName:         docstore.String(d, "middleName"),
		LastName:           docstore.String(d, "lastName"),
		FullName:           docstore.String(d, "fullName"),
		Age:                docstore.Int(d, "age"),
		Gender:             docstore.String(d, "gender"),
		Course:             docstore.String(d, "course"),
		Year:               docstore.String(d, "year"),
		Section:            docstore.String(d, "section"),
		Height:             docstore.Float(d, "height"),
		Weight:             docstore.Float(d, "weight"),
		BMI:                docstore.Float(d, "bmi"),
		BMIResult:          docstore.String(d, "bmiResult"),
		Role:               docstore.String(d, "role"),
		IsStudent:          docstore.Bool(d, "isStudent"),
		PasswordHash:       docstore.String(d, "passwordHash"),
		VerificationCode:   docstore.String(d, "verificationCode"),
		VerificationExpiry: docstore.Time(d, "verificationExpiry"),
		ResendCount:        docstore.Int(d, "resendCount"),
		LastResendTime:     docstore.Time(d, "lastResendTime"),
		LoginAttempts:      docstore.Int(d, "loginAttempts"),
		LastLoginAttempt:   docstore.Time(d, "lastLoginAttempt"),
		LoginStreak:        docstore.Int(d, "loginStreak"),
		TotalLogins:        docstore.Int(d, "totalLogins"),
		LastLogin:          docstore.Time(d, "lastLogin"),
		LastLoginAt:        docstore.Time(d, "lastLoginAt"),
		EmailVerified:      docstore.Bool(d, "emailVerified"),
		IsActive:           docstore.Bool(d, "isActive"),
		ProfileCompleted:   docstore.Bool(d, "profileCompleted"),
		IsNewUser:          docstore.Bool(d, "isNewUser"),
		CreatedAt:          docstore.Time(d, "createdAt"),
		UpdatedAt:          docstore.Time(d, "updatedAt"),
		VerifiedAt:         docstore.Time(d, "verifiedAt"),
		Preferences:        DefaultPreferences(),
	}
	if prefs, ok := d["preferences"].(map[string]any); ok {
		a.Preferences = Preferences{
			Theme:         docstore.String(prefs, "theme"),
			Notifications: docstore.Bool(prefs, "notifications"),
			Language:      docstore.String(prefs, "language"),
		}
	}
	return a
}

// DeletionRecord is the blacklist entry written before an account is torn
// down. Its presence blocks re-registration with the same email.
type DeletionRecord struct {
	Email     string // normalized; also the document key
	FormerUID string
	DeletedAt time.Time
}

func (r *DeletionRecord) ToDoc() map[string]any {
	data := map[string]any{
		"formerUid": r.FormerUID,
	}
	putTime(data, "deletedAt", r.DeletedAt)
	return data
}

func DeletionRecordFromDoc(doc *docstore.Document) *DeletionRecord {
	return &DeletionRecord{
		Email:     doc.Key,
		FormerUID: docstore.String(doc.Data, "formerUid"),
		DeletedAt: docstore.Time(doc.Data, "deletedAt"),
	}
}
