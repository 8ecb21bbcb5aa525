package depot

// Commissioner is the external quota/commissioning collaborator. Every
// successful size-changing operation reports a usage delta; a rejection is
// treated identically to a local quota failure and aborts the transaction.
type Commissioner interface {
	// Commission registers a provisional usage delta for holder. name and
	// description carry operation metadata for the collaborator's ledger.
	Commission(holder string, delta int64, name, description string) error
}

// LocalCommissioner accepts every commission and records it on the logger.
// Used when no external quota service is deployed.
type LocalCommissioner struct {
	logger Logger
}

func NewLocalCommissioner(logger Logger) *LocalCommissioner {
	return &LocalCommissioner{logger: logger}
}

func (c *LocalCommissioner) Commission(holder string, delta int64, name, description string) error {
	c.logger.Debug("usage commission", "holder", holder, "delta", delta, "resource", name, "description", description)
	return nil
}

var _ Commissioner = (*LocalCommissioner)(nil)
