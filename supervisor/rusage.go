package supervisor

import "golang.org/x/sys/unix"

// getrusage wraps the getrusage(2) syscall for self or children, per
// spec.md §4.4's get-rusage verb.
func getrusage(children bool) Rusage {
	who := unix.RUSAGE_SELF
	if children {
		who = unix.RUSAGE_CHILDREN
	}

	var ru unix.Rusage
	if err := unix.Getrusage(who, &ru); err != nil {
		return Rusage{}
	}

	return Rusage{
		UserTime:   float64(ru.Utime.Sec) + float64(ru.Utime.Usec)/1e6,
		SystemTime: float64(ru.Stime.Sec) + float64(ru.Stime.Usec)/1e6,
		MaxRSS:     int64(ru.Maxrss),
	}
}
