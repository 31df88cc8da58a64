package utils

import "github.com/google/uuid"

// GenMsgID returns a new unique message id.
func GenMsgID() string { return "m_" + uuid.NewString() }
