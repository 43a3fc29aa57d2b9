package macaroons

func init() {
	// Use cheap scrypt parameters so the root key store tests don't spend
	// their time deriving keys.
	scryptN = 16
	scryptR = 8
	scryptP = 1
}

// RootKeyBucketName exposes the name of the root key bucket to the tests.
var RootKeyBucketName = rootKeyBucketName
