package cmn

// Bucket names the two namespace-disjoint physical buckets the BlobStore
// serves, per spec.md §2/§4.2. Unlike the teacher's cmn.Bck (which models
// multi-provider remote buckets: S3, GCS, Azure, HDFS...) a bucket here is
// just a fixed on-disk namespace — there is exactly one physical backend.
type Bucket string

const (
	// BucketUserData holds user-uploaded file content, addressed by the
	// per-node storage_key.
	BucketUserData Bucket = "USER_DATA"
	// BucketCache holds processing-pipeline artifacts (page PNGs, etc.)
	// addressed by convention: <file_id>/pages/<page_id>.png
	BucketCache Bucket = "CACHE"
)

func (b Bucket) String() string { return string(b) }

// Valid reports whether b is one of the two buckets the store recognizes.
func (b Bucket) Valid() bool {
	return b == BucketUserData || b == BucketCache
}
