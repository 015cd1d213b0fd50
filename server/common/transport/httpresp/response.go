package httpresp

const (
	ErrUnauthorized       = "unauthorized"
	ErrInvalidCredentials = "invalid credentials"
	ErrMissingBearerToken = "bearer token is required"
	ErrInvalidToken       = "invalid token"
	ErrForbidden          = "forbidden"
	ErrInsufficientRole   = "insufficient permissions"
	ErrCheckInTokenNeeded = "token is required"
	ErrFromMustBeRFC3339  = "startDate must use RFC3339 format"
	ErrToMustBeRFC3339    = "endDate must use RFC3339 format"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type FieldErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type IDResponse struct {
	ID string `json:"id"`
}

type URLResponse struct {
	URL string `json:"url"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
}

func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

func NewFieldErrorResponse(message string, fields map[string]string) FieldErrorResponse {
	return FieldErrorResponse{Error: message, Fields: fields}
}

func NewOKResponse() OKResponse {
	return OKResponse{OK: true}
}

func NewIDResponse(id string) IDResponse {
	return IDResponse{ID: id}
}

func NewURLResponse(url string) URLResponse {
	return URLResponse{URL: url}
}

func NewTokenResponse(accessToken string, userID string, role string) TokenResponse {
	return TokenResponse{AccessToken: accessToken, UserID: userID, Role: role}
}
