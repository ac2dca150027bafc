//go:build !linux

package identity

// StoreKernelKeyring needs the Linux session keyring
func StoreKernelKeyring(_ string) error {
	return ErrKernelKeyringUnsupported
}

// RetrieveKernelKeyring needs the Linux session keyring
func RetrieveKernelKeyring() (string, error) {
	return "", ErrKernelKeyringUnsupported
}

// DeleteKernelKeyring has nothing to remove outside Linux
func DeleteKernelKeyring() error {
	return nil
}
