// Package log provides slog loggers that mask sensitive values before
// they are written.
//
// PhishGuard logs the URLs it analyzes, and phishing URLs regularly carry
// victims' credentials: session tokens in query strings, passwords in
// userinfo, signed links. The RedactingHandler masks:
//   - attributes whose key names a secret (cookie, authorization, password, token)
//   - values that look like bearer, basic, JWT or cloud API credentials
//   - the userinfo and sensitive query parameters (token, password, session,
//     key, sig) of any URL value, keeping its host and path readable
//
// # Usage
//
//	logger := log.New(os.Stderr, log.LevelFor(verbose, slog.LevelInfo), jsonLogs)
//	logger.Info("analysis finished",
//	    "url", "https://user:pw@login.example.tk/?token=abc", // https://REDACTED@login.example.tk/?token=REDACTED
//	    "label", "phishing",
//	)
//
// CLI commands pass slog.LevelWarn to LevelFor so that only problems are
// printed unless --verbose is set.
package log
