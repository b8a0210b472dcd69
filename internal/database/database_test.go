package database

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vm-pricedb/internal/hash/sha256"
	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
)

type fakeBlobs struct {
	mu          sync.Mutex
	path        string
	contentType string
	data        []byte
	err         error
}

func (f *fakeBlobs) PutObject(_ context.Context, path, contentType string, data io.Reader) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.path = path
	f.contentType = contentType
	f.data = body
	return "mem://" + path, nil
}

type fakeRecords struct {
	run pricedb.Run
	db  pricedb.Database
	err error
}

func (f *fakeRecords) WriteDatabase(_ context.Context, run pricedb.Run, db pricedb.Database) error {
	f.run = run
	f.db = db
	return f.err
}

func (f *fakeRecords) Close() {}

func TestAccumulatorCompletionOrder(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator()
	require.Equal(t, 1, acc.Add(pricedb.RegionOutcome{
		Region:  "westus",
		Status:  pricedb.RegionSucceeded,
		Records: []pricedb.Record{{Region: "westus", SKU: "a", Price: 1}},
	}))
	require.Equal(t, 2, acc.Add(pricedb.RegionOutcome{Region: "brazilsouth", Status: pricedb.RegionFailed}))
	require.Equal(t, 3, acc.Add(pricedb.RegionOutcome{
		Region: "eastus",
		Status: pricedb.RegionPartial,
		Records: []pricedb.Record{
			{Region: "eastus", SKU: "b", Price: 2},
			{Region: "eastus", SKU: "c", Price: 3},
		},
	}))

	db := acc.Database()
	require.Len(t, db, 3)
	require.Equal(t, "westus", db[0].Region)
	require.Equal(t, "c", db[2].SKU)
	require.Equal(t, 3, acc.Processed())
	require.Equal(t, map[pricedb.RegionStatus]int{
		pricedb.RegionSucceeded: 1,
		pricedb.RegionFailed:    1,
		pricedb.RegionPartial:   1,
	}, acc.ByStatus())

	db[0].SKU = "mutated"
	require.Equal(t, "a", acc.Database()[0].SKU)
	require.Len(t, acc.Outcomes(), 3)
}

func TestEncodeEmptyDatabase(t *testing.T) {
	t.Parallel()

	data, err := Encode(nil, true)
	require.NoError(t, err)
	require.Equal(t, "[]", string(data))
}

func TestEncodeFieldNames(t *testing.T) {
	t.Parallel()

	data, err := Encode(pricedb.Database{{Region: "eastus", SKU: "Standard_D2s_v5", VCPU: 2, RAM: 8, Price: 0.096}}, true)
	require.NoError(t, err)
	require.JSONEq(t, `[{"region":"eastus","sku":"Standard_D2s_v5","vcpu":2,"ram":8,"price":0.096}]`, string(data))
	require.Contains(t, string(data), "\n  {\n    \"region\"")

	back, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, "Standard_D2s_v5", back[0].SKU)
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte("{not json"))
	require.Error(t, err)
}

func TestNewWriterValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWriter(Config{Path: "vms.json"}, nil, sha256.New(), nil, nil)
	require.Error(t, err)
	_, err = NewWriter(Config{Path: "vms.json"}, &fakeBlobs{}, nil, nil, nil)
	require.Error(t, err)
	_, err = NewWriter(Config{}, &fakeBlobs{}, sha256.New(), nil, nil)
	require.Error(t, err)
}

func TestWriterWrite(t *testing.T) {
	t.Parallel()

	blobs := &fakeBlobs{}
	mirror := &fakeRecords{}
	w, err := NewWriter(Config{Path: "out/vms.json", Indent: true}, blobs, sha256.New(), mirror, nil)
	require.NoError(t, err)

	db := pricedb.Database{
		{Region: "eastus", SKU: "a", VCPU: 2, RAM: 4, Price: 0.1},
		{Region: "westus", SKU: "b", VCPU: 4, RAM: 16, Price: 0.2},
	}
	artifact, err := w.Write(context.Background(), pricedb.Run{ID: "run-1"}, db)
	require.NoError(t, err)
	require.Equal(t, "mem://out/vms.json", artifact.URI)
	require.Equal(t, 2, artifact.Records)
	require.Equal(t, len(blobs.data), artifact.Bytes)
	require.Equal(t, "application/json", blobs.contentType)
	require.NotEmpty(t, artifact.Digest)

	require.Equal(t, "run-1", mirror.run.ID)
	require.Equal(t, artifact.Digest, mirror.run.Digest)
	require.Len(t, mirror.db, 2)
}

// TestWriterDigestMatchesAcrossCompletionOrders compares two runs whose regions finished in a different order.
func TestWriterDigestMatchesAcrossCompletionOrders(t *testing.T) {
	t.Parallel()

	w, err := NewWriter(Config{Path: "vms.json"}, &fakeBlobs{}, sha256.New(), nil, nil)
	require.NoError(t, err)

	first := pricedb.Database{
		{Region: "eastus", SKU: "a", VCPU: 2, RAM: 4, Price: 0.1},
		{Region: "westus", SKU: "b", VCPU: 4, RAM: 16, Price: 0.2},
	}
	second := pricedb.Database{first[1], first[0]}

	a1, err := w.Write(context.Background(), pricedb.Run{ID: "r1"}, first)
	require.NoError(t, err)
	a2, err := w.Write(context.Background(), pricedb.Run{ID: "r2"}, second)
	require.NoError(t, err)
	require.Equal(t, a1.Digest, a2.Digest)
}

func TestWriterStoreFailureIsFatal(t *testing.T) {
	t.Parallel()

	w, err := NewWriter(Config{Path: "vms.json"}, &fakeBlobs{err: errors.New("disk full")}, sha256.New(), nil, nil)
	require.NoError(t, err)

	_, err = w.Write(context.Background(), pricedb.Run{ID: "r1"}, nil)
	require.ErrorContains(t, err, "disk full")
}

func TestWriterMirrorFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	mirror := &fakeRecords{err: errors.New("db down")}
	w, err := NewWriter(Config{Path: "vms.json"}, &fakeBlobs{}, sha256.New(), mirror, nil)
	require.NoError(t, err)

	artifact, err := w.Write(context.Background(), pricedb.Run{ID: "r1"}, pricedb.Database{{Region: "r", SKU: "s", Price: 1}})
	require.NoError(t, err)
	require.Equal(t, 1, artifact.Records)
}
