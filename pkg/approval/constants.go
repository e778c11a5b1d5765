package approval

const (
	operationCreate      = "create"
	operationGet         = "get"
	operationApprove     = "approve"
	operationReject      = "reject"
	operationListPending = "list_pending"
	operationHistory     = "history"
	operationExpireSweep = "expire_sweep"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	maxIdempotencyKeyLength = 100
	maxRejectReasonLength   = 255
	maxImageURLLength       = 1024
)
