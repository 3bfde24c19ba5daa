package intent

import "errors"

var errTestShouldNotCall = errors.New("provider must not be called")
