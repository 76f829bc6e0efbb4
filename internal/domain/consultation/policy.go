package consultation

import "github.com/google/uuid"

// Roles recognized by the authorization table.
const (
	RoleAdmin        = "admin"
	RoleProfessional = "professional"
	RolePatient      = "patient"
)

// Principal is the authenticated caller as seen by the policy table.
type Principal struct {
	UserID         string
	Role           string
	ProfessionalID *uuid.UUID
	PatientID      *uuid.UUID
}

// Action is an operation checked against the policy table.
type Action string

const (
	ActionView       Action = "view"
	ActionUpdate     Action = "update"
	ActionConfirm    Action = "confirm"
	ActionStart      Action = "start"
	ActionFinish     Action = "finish"
	ActionCancel     Action = "cancel"
	ActionNoShow     Action = "no_show"
	ActionReschedule Action = "reschedule"
	ActionDelete     Action = "delete"
)

// IsMutation reports whether the action changes the appointment. Denied
// mutations surface as 403 while denied reads surface as 404.
func (a Action) IsMutation() bool {
	return a != ActionView
}

// patientActions are the only actions a linked patient account may perform on
// its own appointment.
var patientActions = map[Action]bool{
	ActionView:   true,
	ActionCancel: true,
}

// CanPerform is the single row-level authorization rule. First match wins:
//
//  1. admins may do anything;
//  2. the owning professional may do anything on their own appointments;
//  3. the linked patient account may view and cancel its own appointment;
//  4. everything else is denied.
func CanPerform(p Principal, a *Appointment, action Action) bool {
	switch p.Role {
	case RoleAdmin:
		return true
	case RoleProfessional:
		return p.ProfessionalID != nil && *p.ProfessionalID == a.ProfessionalID
	case RolePatient:
		if p.PatientID == nil || a.PatientUserID == nil || *p.PatientID != *a.PatientUserID {
			return false
		}
		return patientActions[action]
	}
	return false
}

// Scope restricts a list query to what the principal may see. Admins see
// everything, professionals their own calendar, patients their own bookings.
// The returned bool is false when the principal can see nothing at all.
func Scope(p Principal, q *ListQuery) bool {
	switch p.Role {
	case RoleAdmin:
		return true
	case RoleProfessional:
		if p.ProfessionalID == nil {
			return false
		}
		if q.ProfessionalID != nil && *q.ProfessionalID != *p.ProfessionalID {
			return false
		}
		q.ProfessionalID = p.ProfessionalID
		return true
	case RolePatient:
		if p.PatientID == nil {
			return false
		}
		q.PatientUserID = p.PatientID
		return true
	}
	return false
}
