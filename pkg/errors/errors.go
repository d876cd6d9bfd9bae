package errors

func (d Definition) Error() string {
	return d.Message
}

// Definition 表示业务错误码及默认信息。
type Definition struct {
	Code    string
	Message string
}

// 认证相关错误。
var (
	SessionExpired          = Definition{Code: "SESSION_EXPIRED", Message: "Session expired"}
	SessionConflict         = Definition{Code: "SESSION_CONFLICT", Message: "Signed in on another device"}
	PhoneAlreadyRegistered  = Definition{Code: "PHONE_ALREADY_REGISTERED", Message: "Phone already registered"}
	CaptchaRateLimited      = Definition{Code: "CAPTCHA_RATE_LIMITED", Message: "Captcha rate limited"}
	VerificationCodeExpired = Definition{Code: "VERIFICATION_CODE_EXPIRED", Message: "Verification code expired"}
	VerificationCodeInvalid = Definition{Code: "VERIFICATION_CODE_INVALID", Message: "Verification code invalid"}
	Unauthorized            = Definition{Code: "UNAUTHORIZED", Message: "Unauthorized"}
	InvalidUserID           = Definition{Code: "INVALID_USER_ID", Message: "Invalid user ID format"}
	InvalidPhone            = Definition{Code: "INVALID_PHONE", Message: "Invalid phone number"}
)

// 联系人模块错误。
var (
	ContactDuplicate     = Definition{Code: "CONTACT_DUPLICATE", Message: "Contact already exists"}
	ContactNotFound      = Definition{Code: "CONTACT_NOT_FOUND", Message: "Contact not found"}
	ContactSelfAdd       = Definition{Code: "CONTACT_SELF_ADD", Message: "Cannot add yourself as a contact"}
	InvalidRoleState     = Definition{Code: "INVALID_ROLE_STATE", Message: "Contact must keep at least one role"}
	DiscoveryCodeUnknown = Definition{Code: "DISCOVERY_CODE_UNKNOWN", Message: "Discovery code did not resolve"}
	RelationConflict     = Definition{Code: "RELATION_CONFLICT", Message: "Relation was modified concurrently"}
)

// 打卡模块错误。
var (
	CheckInIntervalInvalid = Definition{Code: "CHECKIN_INTERVAL_INVALID", Message: "Check-in interval invalid"}
	LeadTimeInvalid        = Definition{Code: "LEAD_TIME_INVALID", Message: "Notification lead time invalid"}
)

// Ping 模块错误。
var (
	PingNotFound     = Definition{Code: "PING_NOT_FOUND", Message: "Ping not found"}
	PingInvalidState = Definition{Code: "PING_INVALID_STATE", Message: "Ping is not in a sent state"}
	PingDuplicate    = Definition{Code: "PING_DUPLICATE", Message: "An outstanding ping to this contact already exists"}
	PingNotSender    = Definition{Code: "PING_NOT_SENDER", Message: "Only the original sender may cancel"}
	PingNotRecipient = Definition{Code: "PING_NOT_RECIPIENT", Message: "Only the recipient may respond"}
)

// 通知模块错误。
var (
	NotificationNotFound = Definition{Code: "NOTIFICATION_NOT_FOUND", Message: "Notification not found"}
	PendingPayloadBad    = Definition{Code: "PENDING_PAYLOAD_BAD", Message: "Pending action payload malformed"}
)

// 通用错误。
var (
	ErrUserNotFound = Definition{Code: "USER_NOT_FOUND", Message: "User not found"}
	TooManyRequests = Definition{Code: "TOO_MANY_REQUESTS", Message: "Too many requests"}
)

// Lookup 提供错误码查询能力。
var Lookup = map[string]Definition{
	SessionExpired.Code:          SessionExpired,
	SessionConflict.Code:         SessionConflict,
	PhoneAlreadyRegistered.Code:  PhoneAlreadyRegistered,
	CaptchaRateLimited.Code:      CaptchaRateLimited,
	VerificationCodeExpired.Code: VerificationCodeExpired,
	VerificationCodeInvalid.Code: VerificationCodeInvalid,
	Unauthorized.Code:            Unauthorized,
	InvalidUserID.Code:           InvalidUserID,
	InvalidPhone.Code:            InvalidPhone,
	ContactDuplicate.Code:        ContactDuplicate,
	ContactNotFound.Code:         ContactNotFound,
	ContactSelfAdd.Code:          ContactSelfAdd,
	InvalidRoleState.Code:        InvalidRoleState,
	DiscoveryCodeUnknown.Code:    DiscoveryCodeUnknown,
	RelationConflict.Code:        RelationConflict,
	CheckInIntervalInvalid.Code:  CheckInIntervalInvalid,
	LeadTimeInvalid.Code:         LeadTimeInvalid,
	PingNotFound.Code:            PingNotFound,
	PingInvalidState.Code:        PingInvalidState,
	PingDuplicate.Code:           PingDuplicate,
	PingNotSender.Code:           PingNotSender,
	PingNotRecipient.Code:        PingNotRecipient,
	NotificationNotFound.Code:    NotificationNotFound,
	PendingPayloadBad.Code:       PendingPayloadBad,
	ErrUserNotFound.Code:         ErrUserNotFound,
	TooManyRequests.Code:         TooManyRequests,
}

// Get 根据错误码返回 Definition，若不存在则返回空 Definition。
func Get(code string) Definition {
	if def, ok := Lookup[code]; ok {
		return def
	}
	return Definition{Code: code, Message: "Unexpected error"}
}
