// Package twitch connects Twitch chat channels to the mirror.
//
// It provides two pieces:
//   - Recorder: joins the configured channels over IRC and feeds every chat
//     message into the sync registry as a live event. Single-message
//     moderator deletions (CLEARMSG) are applied as point deletions.
//   - HistoryClient: fetches archived chat pages from a Helix-style chat
//     archive service. Twitch itself keeps no fetchable message history, so
//     backfill depends on a deployment-provided archive (TWITCH_HISTORY_URL).
//
// Credentials: the IRC client requires a bot username and a user OAuth token
// with chat:read scope; an app access token cannot join chat. The archive
// client uses app credentials via the OAuth2 client credentials flow.
package twitch
