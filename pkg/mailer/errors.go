package mailer

import "errors"

var (
	// ErrNoRecipient indicates no recipient was specified.
	ErrNoRecipient = errors.New("email must have at least one recipient")

	// ErrNoSender indicates no from address was specified.
	ErrNoSender = errors.New("email must have a sender")

	// ErrNoSubject indicates no subject was provided.
	ErrNoSubject = errors.New("email must have a subject")

	// ErrNoContent indicates neither an HTML nor a text body was provided.
	ErrNoContent = errors.New("email must have a body")

	// ErrTransportUnavailable indicates the backend could not reach its
	// transport (connection refused, DNS failure, timeout). Not retried.
	ErrTransportUnavailable = errors.New("mail transport unavailable")

	// ErrAuthenticationFailed indicates the backend's credentials or token
	// were rejected by the transport or the remote deployment.
	ErrAuthenticationFailed = errors.New("mail transport authentication failed")

	// ErrRejected indicates the transport refused the message itself,
	// typically an invalid sender or recipient.
	ErrRejected = errors.New("message rejected by mail transport")
)
