// Package notifier delivers rendered messages to recipients.
//
// The notifier package defines the Notifier transport interface and its
// implementations: email through Amazon SES, SMS through Amazon SNS, and a
// dry-run notifier that prints messages instead of sending them. A Router
// dispatches each message to the notifier registered for its channel.
package notifier
