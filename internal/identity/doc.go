// Package identity maps contacts to patients and decides who may send
// what.
//
// # Resolution
//
// The Resolver keeps an in-memory index from normalized contact
// strings (phone numbers, email addresses) to patient IDs, built from
// diaries and rebuilt from the store on startup. Resolve returns
// ErrUnknownContact when nothing matches and ErrAmbiguousContact when
// more than one patient shares a contact; ties on the same patient are
// fine.
//
// # Permissions
//
// CheckPermission gates every event before an agent sees it. Patients
// may do anything on their own diary. Helpers need a verified
// registration and a grant covering the event type. GP and system
// senders are limited to their own event families. Denials return
// ErrNotPermitted, which the gateway turns into a polite refusal
// without touching the diary.
package identity
