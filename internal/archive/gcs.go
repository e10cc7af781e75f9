package archive

import (
	"fmt"

	_ "gocloud.dev/blob/gcsblob" // GCS driver
)

// NewGCSStore creates a store over a Google Cloud Storage bucket.
// Credentials come from the environment (application default credentials).
func NewGCSStore(bucketName, prefix string) (Store, error) {
	return openBlobStore(fmt.Sprintf("gs://%s", bucketName), "gs", bucketName, prefix)
}
