package sim

// AdminStatusWriter allows writers to show where the admin API listens.
// An empty addr means the API is disabled.
type AdminStatusWriter interface {
	SetAdminStatus(addr string)
}
