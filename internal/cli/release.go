package cli

// Represents the 'gpioctl release' command.
type ReleaseCmd struct{}

// Executes the release command.
//
// Releasing a held request is not implemented yet: the protocol reserves a
// message kind for it, but the broker does not handle it and the ownership
// model (who may release whose request) is still undecided. The command is
// accepted and does nothing.
func (c *ReleaseCmd) Run() error {
	return nil
}
