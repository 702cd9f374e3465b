// Package identity is the identity collaborator of the chat core.
//
// It resolves an authenticated request principal to a stable numeric user id and
// answers user existence/lookup queries. Registration and credential storage live
// outside this module; the stores here only read users and update presence.
package identity
