// Package agent contains the guardian response generators. The primary agent
// answers the player with an optional vault-balance tool; on hard challenges
// the secondary agent reviews the primary's draft and streams the reply that
// actually reaches the player.
package agent
