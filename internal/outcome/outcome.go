// Package outcome defines the small taxonomy of authentication results
// surfaced to the dispatcher, and the mapping from the LDAP I/O layer's
// result classification onto that taxonomy.
package outcome

import "github.com/croessner/ldapauthd/internal/ldapio"

// Outcome is the PAM-style result reported for a completed request.
type Outcome int

const (
	// Success indicates authentication/change succeeded, or the command is
	// a no-op for this provider.
	Success Outcome = iota
	// BadCredentials indicates LDAP returned InvalidCredentials on the user
	// bind.
	BadCredentials
	// UserUnknown indicates the search returned no entries or an empty DN.
	UserUnknown
	// ServiceUnavailable indicates the initial connection returned
	// ServerDown.
	ServiceUnavailable
	// SystemError covers any other LDAP or local failure.
	SystemError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "Success"
	case BadCredentials:
		return "BadCredentials"
	case UserUnknown:
		return "UserUnknown"
	case ServiceUnavailable:
		return "ServiceUnavailable"
	case SystemError:
		return "SystemError"
	default:
		return "SystemError"
	}
}

// PAMCommand is the set of PAM-style commands the dispatcher may deliver.
type PAMCommand int

const (
	Authenticate PAMCommand = iota
	ChangeAuthTok
	AcctMgmt
	SetCred
	OpenSession
	CloseSession
)

func (c PAMCommand) String() string {
	switch c {
	case Authenticate:
		return "Authenticate"
	case ChangeAuthTok:
		return "ChangeAuthTok"
	case AcctMgmt:
		return "AcctMgmt"
	case SetCred:
		return "SetCred"
	case OpenSession:
		return "OpenSession"
	case CloseSession:
		return "CloseSession"
	default:
		return "Unknown"
	}
}

// IsUserLocateOnly reports whether the command is a no-op once the user's
// DN has been located (spec.md §4.4 step 4): AcctMgmt, SetCred,
// OpenSession, CloseSession never reach a user bind in this provider.
func (c PAMCommand) IsUserLocateOnly() bool {
	switch c {
	case AcctMgmt, SetCred, OpenSession, CloseSession:
		return true
	default:
		return false
	}
}

// FromOpenResult maps the classification of the initial connect/StartTLS
// submission onto an Outcome (spec.md §4.4 step 1): ServerDown maps to
// ServiceUnavailable, any other failure to SystemError. This is the only
// step where ServerDown carries that special meaning.
func FromOpenResult(kind ldapio.ResultKind) Outcome {
	switch kind {
	case ldapio.KindSuccess:
		return Success
	case ldapio.KindServerDown:
		return ServiceUnavailable
	default:
		return SystemError
	}
}

// FromBindResult maps the classification of the user-authenticating bind
// (spec.md §4.4 step 5) onto an Outcome: success is returned when the bind
// itself succeeded, InvalidCredentials maps to BadCredentials, and every
// other result (including ServerDown, which carries no special meaning once
// a connection has already been established) maps to SystemError. Step 3's
// service bind has no InvalidCredentials carve-out — the state machine
// checks that bind's success directly rather than calling this function.
func FromBindResult(kind ldapio.ResultKind, success Outcome) Outcome {
	switch kind {
	case ldapio.KindSuccess:
		return success
	case ldapio.KindInvalidCredentials:
		return BadCredentials
	default:
		return SystemError
	}
}

// FromModifyResult maps the classification of the password-modify extended
// operation onto an Outcome: success maps to Success, anything else to
// SystemError (spec.md §4.4 step 5 — InvalidCredentials has no special
// meaning for this operation since authentication already succeeded).
func FromModifyResult(kind ldapio.ResultKind) Outcome {
	if kind == ldapio.KindSuccess {
		return Success
	}

	return SystemError
}
