//go:build !unix

package platform

const mmapSupported = false

func MmapMemory(int) ([]byte, error) {
	return nil, errUnsupported
}

func munmap([]byte) error {
	return errUnsupported
}

func MprotectRX([]byte) error {
	return errUnsupported
}
