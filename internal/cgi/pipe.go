package cgi

import "os"

func osPipe() (r, w *os.File, err error) {
	return os.Pipe()
}
