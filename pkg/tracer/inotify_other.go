//go:build !linux

package tracer

import (
	"context"
	"errors"
	"io"
)

type InotifyObserver struct {
	Root    string
	Exclude []string
	Out     io.Writer
}

func (o *InotifyObserver) Run(ctx context.Context) error {
	return errors.New("the inotify observer requires linux")
}
