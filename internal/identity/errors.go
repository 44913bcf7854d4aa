package identity

const (
	CodeMissingFields     = "missing-fields"
	CodeEmailInUse        = "email-already-in-use"
	CodeInvalidEmail      = "invalid-email"
	CodeWeakPassword      = "weak-password"
	CodeInvalidCredential = "invalid-credential"
	CodeEmailNotVerified  = "email-not-verified"
	CodeInvalidToken      = "invalid-token"
	CodeInternal          = "internal"
)

var messages = map[string]string{
	CodeMissingFields:     "Please fill in all fields.",
	CodeEmailInUse:        "This email is already in use.",
	CodeInvalidEmail:      "Please enter a valid email.",
	CodeWeakPassword:      "Password must be at least 6 characters.",
	CodeInvalidCredential: "Invalid email or password.",
	CodeEmailNotVerified:  "Please verify your email before logging in.",
	CodeInvalidToken:      "This verification link is invalid or has expired.",
}

const genericMessage = "Something went wrong."

// Message maps an error code to the text shown to the user.
func Message(code string) string {
	m, ok := messages[code]
	if !ok {
		return genericMessage
	}
	return m
}

// Error is an identity failure carrying a user facing message.
type Error struct {
	Code string
	Err  error
}

func newError(code string, err error) *Error {
	return &Error{Code: code, Err: err}
}

func (e *Error) Error() string {
	return Message(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}
