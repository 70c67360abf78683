//go:build !linux

package raspberry

func openCdev(string) (Backend, error) {
	return nil, ErrUnsupported
}

func openGpiomem() (Backend, error) {
	return nil, ErrUnsupported
}
