package cmn

import "fmt"

// Assertion helpers in the teacher's style (cmn/debug): cheap invariant
// checks meant to fire in development and CI, not to replace proper error
// handling on user-facing paths.

func Assert(cond bool, a ...interface{}) {
	if !cond {
		panic("assertion failed: " + fmt.Sprint(a...))
	}
}

func Assertf(cond bool, format string, a ...interface{}) {
	if !cond {
		panic("assertion failed: " + fmt.Sprintf(format, a...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic("assertion failed: unexpected error: " + err.Error())
	}
}
