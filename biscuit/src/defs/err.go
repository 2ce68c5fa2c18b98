package defs

// Err_t is a kernel error code. Zero means success; a failure is
// returned as one of the positive codes below (e.g. "return defs.EFAULT").
type Err_t int

// Error codes used across the VM and journal cores. Values are not meant
// to match any host errno numbering; they only need to be distinct.
const (
	EINVAL      Err_t = 1  /// invalid argument
	EFAULT      Err_t = 2  /// invalid/unmapped address
	ENOMEM      Err_t = 3  /// no physical frames available
	ENOHEAP     Err_t = 4  /// kernel heap exhausted
	ENOSWAP     Err_t = 5  /// swap device exhausted
	ENAMETOOLONG Err_t = 6 /// string exceeded caller's buffer
	EBUSY       Err_t = 7  /// resource busy (e.g. unmount with open files)
	EIO         Err_t = 8  /// underlying device I/O failure
)

// String renders a human-readable name for e, for logging.
func (e Err_t) String() string {
	switch e {
	case 0:
		return "ok"
	case EINVAL:
		return "EINVAL"
	case EFAULT:
		return "EFAULT"
	case ENOMEM:
		return "ENOMEM"
	case ENOHEAP:
		return "ENOHEAP"
	case ENOSWAP:
		return "ENOSWAP"
	case ENAMETOOLONG:
		return "ENAMETOOLONG"
	case EBUSY:
		return "EBUSY"
	case EIO:
		return "EIO"
	default:
		return "unknown error"
	}
}
