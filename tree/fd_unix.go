package tree

import "golang.org/x/sys/unix"

func closeFD(fd int) error {
	return unix.Close(fd)
}

func dupFD(fd int) (int, error) {
	newFD, err := unix.Dup(fd)
	if err != nil {
		return -1, err
	}
	unix.CloseOnExec(newFD)
	return newFD, nil
}
