// Package s3mod implements a blocking VFS backend module backed by an S3
// bucket, adapted from the teacher's internal/storage/s3 package. Every
// object in the bucket is addressed by a flat key; directories are
// synthesized from "/"-delimited key prefixes the way the AWS console and
// s3fs do, using zero-byte marker objects suffixed with "/". Because every
// operation is a blocking network round trip, the module declares
// Blocking so the dispatcher routes it through the delegation worker pool
// (spec.md §4.F) instead of calling Dispatch on a network thread.
package s3mod

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/chimera-nas/vfscore/internal/backend"
	"github.com/chimera-nas/vfscore/internal/buffer"
	"github.com/chimera-nas/vfscore/internal/circuit"
	"github.com/chimera-nas/vfscore/internal/request"
	"github.com/chimera-nas/vfscore/pkg/utils"
	"github.com/chimera-nas/vfscore/pkg/vfsattr"
	"github.com/chimera-nas/vfscore/pkg/vfserrors"
)

// Magic is the module_magic byte s3mod registers under.
const Magic = 2

const (
	sIFDIR = 0040000
	sIFREG = 0100000
)

// rootIno is the inode reserved for the bucket root (empty key prefix).
const rootIno = 1

// Module is the S3-backed module. The zero value is not usable; call New.
type Module struct {
	cfg     *Config
	pool    *ConnectionPool
	client  *s3.Client
	breaker *circuit.CircuitBreaker
	bufPool *buffer.BytePool

	mu       sync.RWMutex
	keyByIno map[uint64]string
	inoByKey map[string]uint64
	nextIno  uint64
	pending  map[uint64][]byte // buffered writes awaiting commit, keyed by ino
}

// New builds an S3 module for cfg. It does not make any network calls;
// Init establishes the AWS SDK client and connection pool.
func New(cfg *Config) *Module {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	return &Module{
		cfg: cfg,
		breaker: circuit.NewCircuitBreaker("s3mod:"+cfg.Bucket, circuit.Config{
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
		}),
		bufPool:  buffer.NewBytePool(),
		keyByIno: map[uint64]string{rootIno: ""},
		inoByKey: map[string]uint64{"": rootIno},
		nextIno:  rootIno + 1,
		pending:  make(map[uint64][]byte),
	}
}

// Magic implements backend.Module.
func (m *Module) Magic() byte { return Magic }

// Capabilities implements backend.Module. S3 calls block on network I/O,
// so every dispatch must run on a delegation worker.
func (m *Module) Capabilities() backend.Capability {
	return backend.Blocking | backend.OpenFileRequired
}

// Init implements backend.Module: loads AWS credentials/config and builds
// the client pool, mirroring the teacher's NewClientManager.
func (m *Module) Init(ctx context.Context, configData string) error {
	if m.cfg.Bucket == "" {
		return fmt.Errorf("s3mod: bucket name cannot be empty")
	}

	var optFns []func(*awsconfig.LoadOptions) error
	optFns = append(optFns, awsconfig.WithRegion(m.cfg.Region))
	if m.cfg.MaxRetries > 0 {
		optFns = append(optFns, awsconfig.WithRetryMaxAttempts(m.cfg.MaxRetries))
	}
	if m.cfg.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(m.cfg.AccessKeyID, m.cfg.SecretAccessKey, m.cfg.SessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return fmt.Errorf("s3mod: failed to load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if m.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(m.cfg.Endpoint)
		}
		if m.cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	}

	m.client = s3.NewFromConfig(awsCfg, clientOpts)

	pool, err := NewConnectionPool(m.cfg.PoolSize, func() (*s3.Client, error) {
		return s3.NewFromConfig(awsCfg, clientOpts), nil
	})
	if err != nil {
		return fmt.Errorf("s3mod: failed to create connection pool: %w", err)
	}
	m.pool = pool

	return nil
}

// Destroy implements backend.Module.
func (m *Module) Destroy(ctx context.Context) error {
	if m.pool != nil {
		return m.pool.Close()
	}
	return nil
}

// ThreadInit implements backend.Module; delegation workers share the
// module's connection pool rather than carrying per-worker state.
func (m *Module) ThreadInit(ctx context.Context) (interface{}, error) { return nil, nil }

// ThreadDestroy implements backend.Module.
func (m *Module) ThreadDestroy(ctx context.Context, private interface{}) error { return nil }

// Mount implements mount.Mounter.
func (m *Module) Mount(ctx context.Context, mountPath, optionsData string) (interface{}, []byte, error) {
	return nil, vfsattr.EncodeUint64(rootIno), nil
}

func (m *Module) keyForFH(fh vfsattr.FH) (string, vfserrors.Code) {
	ino := vfsattr.DecodeUint64(fh.Private())
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keyByIno[ino]
	if !ok {
		return "", vfserrors.STALE
	}
	return key, vfserrors.OK
}

// internIno returns the existing inode for key, or allocates a fresh one.
func (m *Module) internIno(key string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ino, ok := m.inoByKey[key]; ok {
		return ino
	}
	ino := m.nextIno
	m.nextIno++
	m.inoByKey[key] = ino
	m.keyByIno[ino] = key
	return ino
}

func (m *Module) fhFor(parent vfsattr.FH, key string) vfsattr.FH {
	mountID := vfsattr.MountIDFromBytes(parent.MountID())
	return vfsattr.NewFH(Magic, mountID, vfsattr.EncodeUint64(m.internIno(key)))
}

func joinKey(parentKey, name string) string {
	if parentKey == "" {
		return name
	}
	return parentKey + "/" + name
}

// validateName rejects a path component that could escape the bucket's
// flat key namespace once joined onto a parent key: a name carrying "../"
// would otherwise let a client address an object outside its directory's
// own key prefix. Reuses the teacher's pkg/utils traversal check rather
// than reimplementing it, since a single path component is just a
// degenerate case of the relative path ValidatePath already validates.
func validateName(name string) vfserrors.Code {
	if name == "" || strings.ContainsRune(name, '/') {
		return vfserrors.INVAL
	}
	if err := utils.ValidatePath(name, false); err != nil {
		return vfserrors.INVAL
	}
	return vfserrors.OK
}

// dirAttrs synthesizes a directory's attributes; S3 has no directory
// objects of its own unless a zero-byte marker was created for one.
func dirAttrs(fh vfsattr.FH) vfsattr.Attrs {
	now := time.Now()
	return vfsattr.Attrs{
		SetMask: vfsattr.MaskStat | vfsattr.AttrFH,
		Mode:    sIFDIR | 0755,
		Nlink:   2,
		Mtime:   now,
		Ctime:   now,
		Atime:   now,
		FH:      fh.Clone(),
	}
}

func fileAttrs(fh vfsattr.FH, size int64, mtime time.Time) vfsattr.Attrs {
	return vfsattr.Attrs{
		SetMask: vfsattr.MaskStat | vfsattr.AttrFH,
		Mode:    sIFREG | 0644,
		Nlink:   1,
		Size:    uint64(size),
		Mtime:   mtime,
		Ctime:   mtime,
		Atime:   mtime,
		FH:      fh.Clone(),
	}
}

// classify maps an AWS SDK error to the VFS error taxonomy.
func classify(err error) vfserrors.Code {
	if err == nil {
		return vfserrors.OK
	}
	var nsk *types.NoSuchKey
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsk) || errors.As(err, &nsb) {
		return vfserrors.NOENT
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return vfserrors.NOENT
		case "AccessDenied":
			return vfserrors.ACCESS
		}
	}
	return vfserrors.IO
}

// Dispatch implements backend.Module. Every branch is a blocking S3 call;
// the dispatcher only reaches Dispatch from a delegation worker since
// Capabilities() reports Blocking. The actual work runs behind the
// module's circuit breaker so a run of connectivity failures against the
// bucket trips the breaker and fails fast instead of piling up delegation
// workers on a dead endpoint (grounded on the teacher's internal/circuit
// package, which guarded its own S3 client calls the same way).
func (m *Module) Dispatch(ctx context.Context, req *request.Request, threadPrivate interface{}) {
	defer req.MarkComplete()

	err := m.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		m.dispatchLocked(ctx, req)
		if isInfraFailure(req.Status) {
			return fmt.Errorf("s3mod: infra failure: %s", req.Status)
		}
		return nil
	})
	if err != nil && errors.Is(err, circuit.ErrOpenState) {
		req.Status = vfserrors.DELAY
	}
}

// isInfraFailure reports whether code reflects the bucket being
// unreachable or overloaded, as opposed to an expected per-request
// outcome (NOENT, ACCESS, NOTSUPP, ...) that should not count against
// the breaker.
func isInfraFailure(code vfserrors.Code) bool {
	switch code {
	case vfserrors.IO, vfserrors.SERVERFAULT, vfserrors.DELAY:
		return true
	default:
		return false
	}
}

// dispatchLocked performs the actual S3 round trip for req, setting
// req.Status and any opcode-specific result fields. Split out of
// Dispatch so it can run inside the circuit breaker's guarded closure.
func (m *Module) dispatchLocked(ctx context.Context, req *request.Request) {
	client := m.pool.Get()
	if client == nil {
		req.Status = vfserrors.DELAY
		return
	}
	defer m.pool.Put(client)

	key, code := m.keyForFH(req.FH)
	if code != vfserrors.OK {
		req.Status = code
		return
	}

	switch req.Opcode {
	case request.OpOpen:
		req.Open.ResultFH = req.FH
		req.Open.ResultAttr = m.statKey(ctx, client, req.FH, key)
		req.Status = vfserrors.OK

	case request.OpGetattr:
		req.Getattr.ResultAttr = m.statKey(ctx, client, req.FH, key)
		req.Status = vfserrors.OK

	case request.OpSetattr:
		attrs := m.statKey(ctx, client, req.FH, key)
		req.Setattr.PreAttr = attrs
		req.Setattr.PostAttr = attrs
		req.Status = vfserrors.OK

	case request.OpLookup:
		if code := validateName(req.Lookup.Name); code != vfserrors.OK {
			req.Status = code
			return
		}
		childKey := joinKey(key, req.Lookup.Name)
		attrs, exists := m.headOrDir(ctx, client, req.FH, childKey)
		if !exists {
			req.Status = vfserrors.NOENT
			return
		}
		req.Lookup.ResultAttr = attrs
		req.Lookup.DirAttr = dirAttrs(req.FH)
		req.Status = vfserrors.OK

	case request.OpOpenAt:
		if code := validateName(req.Open.Name); code != vfserrors.OK {
			req.Status = code
			return
		}
		childKey := joinKey(key, req.Open.Name)
		attrs, exists := m.headOrDir(ctx, client, req.FH, childKey)
		if !exists {
			if !req.Open.ForWrite {
				req.Status = vfserrors.NOENT
				return
			}
			attrs = fileAttrs(m.fhFor(req.FH, childKey), 0, time.Now())
		}
		req.Open.ResultFH = attrs.FH
		req.Open.ResultAttr = attrs
		req.Status = vfserrors.OK

	case request.OpReaddir:
		req.Status = m.readdir(ctx, client, req.FH, key, req.Readdir)

	case request.OpRead:
		req.Status = m.read(ctx, client, key, req.Read)

	case request.OpWrite:
		req.Status = m.write(req.FH, key, req.Write)

	case request.OpCommit:
		req.Status = m.commit(ctx, client, req.FH, key)

	case request.OpRemove:
		if code := validateName(req.Remove.Name); code != vfserrors.OK {
			req.Status = code
			return
		}
		childKey := joinKey(key, req.Remove.Name)
		_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.Bucket),
			Key:    aws.String(childKey),
		})
		if err != nil {
			req.Status = classify(err)
			return
		}
		req.Status = vfserrors.OK

	case request.OpMkdir:
		if code := validateName(req.Mkdir.Name); code != vfserrors.OK {
			req.Status = code
			return
		}
		childKey := joinKey(key, req.Mkdir.Name) + "/"
		_, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(m.cfg.Bucket),
			Key:    aws.String(childKey),
			Body:   bytes.NewReader(nil),
		})
		if err != nil {
			req.Status = classify(err)
			return
		}
		fh := m.fhFor(req.FH, strings.TrimSuffix(childKey, "/"))
		req.Mkdir.ResultFH = fh
		req.Mkdir.ResultAttr = dirAttrs(fh)
		req.Status = vfserrors.OK

	case request.OpMknod:
		if code := validateName(req.Mknod.Name); code != vfserrors.OK {
			req.Status = code
			return
		}
		childKey := joinKey(key, req.Mknod.Name)
		_, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(m.cfg.Bucket),
			Key:    aws.String(childKey),
			Body:   bytes.NewReader(nil),
		})
		if err != nil {
			req.Status = classify(err)
			return
		}
		fh := m.fhFor(req.FH, childKey)
		req.Mknod.ResultFH = fh
		req.Mknod.ResultAttr = fileAttrs(fh, 0, time.Now())
		req.Status = vfserrors.OK

	case request.OpRename:
		req.Status = m.rename(ctx, client, req.FH, key, req.Rename)

	case request.OpSymlink, request.OpReadlink, request.OpLink:
		// S3's flat object namespace has no notion of a symbolic or hard
		// link target; these are unsupported on this backend.
		req.Status = vfserrors.NOTSUPP

	default:
		req.Status = vfserrors.NOTSUPP
	}
}

func (m *Module) statKey(ctx context.Context, client *s3.Client, parent vfsattr.FH, key string) vfsattr.Attrs {
	if key == "" || strings.HasSuffix(key, "/") {
		return dirAttrs(m.fhFor(parent, key))
	}
	out, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return dirAttrs(m.fhFor(parent, key))
	}
	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	mtime := time.Now()
	if out.LastModified != nil {
		mtime = *out.LastModified
	}
	return fileAttrs(m.fhFor(parent, key), size, mtime)
}

// headOrDir resolves childKey to either a file object or a synthesized
// directory (a HeadObject for childKey+"/" succeeds, or at least one
// object exists under the childKey+"/" prefix).
func (m *Module) headOrDir(ctx context.Context, client *s3.Client, parent vfsattr.FH, childKey string) (vfsattr.Attrs, bool) {
	out, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(childKey),
	})
	if err == nil {
		size := int64(0)
		if out.ContentLength != nil {
			size = *out.ContentLength
		}
		mtime := time.Now()
		if out.LastModified != nil {
			mtime = *out.LastModified
		}
		return fileAttrs(m.fhFor(parent, childKey), size, mtime), true
	}

	listOut, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(m.cfg.Bucket),
		Prefix:  aws.String(childKey + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil || len(listOut.Contents) == 0 {
		return vfsattr.Attrs{}, false
	}
	return dirAttrs(m.fhFor(parent, childKey)), true
}

func (m *Module) readdir(ctx context.Context, client *s3.Client, dirFH vfsattr.FH, key string, args *request.ReaddirArgs) vfserrors.Code {
	prefix := key
	if prefix != "" {
		prefix += "/"
	}

	out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(m.cfg.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	if err != nil {
		return classify(err)
	}

	cookie := uint64(0)
	for _, p := range out.CommonPrefixes {
		name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(p.Prefix), prefix), "/")
		cookie++
		if cookie <= args.Cookie {
			continue
		}
		childFH := m.fhFor(dirFH, strings.TrimSuffix(aws.ToString(p.Prefix), "/"))
		if args.Emit != nil && !args.Emit(name, childFH, dirAttrs(childFH), cookie) {
			return vfserrors.OK
		}
	}
	for _, obj := range out.Contents {
		k := aws.ToString(obj.Key)
		if k == prefix {
			continue // the directory marker object itself
		}
		name := path.Base(k)
		cookie++
		if cookie <= args.Cookie {
			continue
		}
		childFH := m.fhFor(dirFH, k)
		size := int64(0)
		if obj.Size != nil {
			size = *obj.Size
		}
		mtime := time.Now()
		if obj.LastModified != nil {
			mtime = *obj.LastModified
		}
		if args.Emit != nil && !args.Emit(name, childFH, fileAttrs(childFH, size, mtime), cookie) {
			return vfserrors.OK
		}
	}

	args.EOF = true
	return vfserrors.OK
}

func (m *Module) read(ctx context.Context, client *s3.Client, key string, args *request.ReadArgs) vfserrors.Code {
	rng := fmt.Sprintf("bytes=%d-%d", args.Offset, args.Offset+uint64(args.Length)-1)
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(key),
		Range:  aws.String(rng),
	})
	if err != nil {
		if classify(err) == vfserrors.NOENT {
			args.Data = nil
			args.EOF = true
			return vfserrors.OK
		}
		return classify(err)
	}
	defer out.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return vfserrors.IO
	}
	args.Data = buf.Bytes()
	if out.ContentRange != nil {
		var start, end, total int64
		fmt.Sscanf(*out.ContentRange, "bytes %d-%d/%d", &start, &end, &total)
		args.EOF = end+1 >= total
	} else {
		args.EOF = true
	}
	return vfserrors.OK
}

// write buffers data locally; S3 objects are immutable once written, so
// the accumulated buffer is flushed as a single PutObject on Commit.
// write stages args.Data into the object's pending buffer, a slice
// checked out of m.bufPool rather than grown with repeated
// append-and-copy, since an S3 object staged for upload can run to
// dozens of megabytes and the teacher's internal/buffer.BytePool exists
// exactly to keep that growth off the GC.
func (m *Module) write(fh vfsattr.FH, key string, args *request.WriteArgs) vfserrors.Code {
	ino := vfsattr.DecodeUint64(fh.Private())

	m.mu.Lock()
	buf, ok := m.pending[ino]
	end := int(args.Offset) + len(args.Data)
	if !ok {
		buf = m.bufPool.Get(end)
		m.pending[ino] = buf
	} else if len(buf) < end {
		grown := m.bufPool.Get(end)
		copy(grown, buf)
		m.bufPool.Put(buf)
		buf = grown
		m.pending[ino] = buf
	}
	copy(buf[args.Offset:end], args.Data)
	m.mu.Unlock()

	args.Written = uint32(len(args.Data))
	now := time.Now()
	args.PreAttr = fileAttrs(fh, int64(end), now)
	args.PostAttr = fileAttrs(fh, int64(end), now)
	return vfserrors.OK
}

func (m *Module) commit(ctx context.Context, client *s3.Client, fh vfsattr.FH, key string) vfserrors.Code {
	ino := vfsattr.DecodeUint64(fh.Private())

	m.mu.Lock()
	buf, ok := m.pending[ino]
	if ok {
		delete(m.pending, ino)
	}
	m.mu.Unlock()

	if !ok {
		return vfserrors.OK
	}
	defer m.bufPool.Put(buf)

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf),
	})
	return classify(err)
}

func (m *Module) rename(ctx context.Context, client *s3.Client, parent vfsattr.FH, parentKey string, args *request.RenameArgs) vfserrors.Code {
	if code := validateName(args.OldName); code != vfserrors.OK {
		return code
	}
	if code := validateName(args.NewName); code != vfserrors.OK {
		return code
	}
	oldKey := joinKey(parentKey, args.OldName)

	newParentKey, code := m.keyForFH(args.NewParent)
	if code != vfserrors.OK {
		return vfserrors.STALE
	}
	newKey := joinKey(newParentKey, args.NewName)

	_, err := client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(m.cfg.Bucket),
		CopySource: aws.String(m.cfg.Bucket + "/" + oldKey),
		Key:        aws.String(newKey),
	})
	if err != nil {
		return classify(err)
	}

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(oldKey),
	})
	return classify(err)
}
