// Package authkit provides the session and token core behind credential
// authentication: password handling, single use tokens, session records,
// per request identity resolution, and the email confirmation and
// password reset workflows.
//
// Identity resolution:
//   - Resolver walks an explicit strategy list per request (session
//     container first, signed remember cookie second) and memoizes the
//     outcome on the request, so handlers can ask for the current
//     principal as often as they like at the cost of one lookup per
//     source. RequireLogin, RequireSudo and RequireCompleteProfile are
//     thin gates over the same resolution.
//
// Single use tokens:
//   - TokenStore manages the purpose bound token slots on a user
//     (remember, reset_password, confirmation, unlock). Tokens are
//     random urlsafe values stored under unique indexes; comparison is
//     constant time and every purpose except remember carries a TTL.
//     Consumption is explicit: workflows only retire a token once the
//     guarded action went through, so a failed retry keeps the same
//     link usable.
//
// Workflows:
//   - ConfirmationWorkflow parks email changes on the record until the
//     mailbox holder proves control. PasswordResetWorkflow behaves
//     identically for known and unknown identifiers so the endpoint
//     cannot enumerate accounts. Signup composes both with a
//     transactional registration.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter describing login,
//     logout, signup, reset and confirmation events. Sinks run
//     best-effort (errors are logged) so you can forward to a database
//     or queue without blocking authentication.
package authkit
