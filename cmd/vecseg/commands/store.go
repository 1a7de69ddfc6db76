package commands

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/hupe1980/vecseg/blobstore"
	"github.com/hupe1980/vecseg/blobstore/minio"
	"github.com/hupe1980/vecseg/blobstore/s3"
	"github.com/hupe1980/vecseg/internal/config"
	"github.com/hupe1980/vecseg/internal/resource"
	"github.com/hupe1980/vecseg/snapshot"
)

// openStore builds the snapshot store named by the config.
func openStore(ctx context.Context, sc config.StoreConfig) (blobstore.BlobStore, error) {
	switch sc.Type {
	case "local":
		if sc.Path == "" {
			return nil, errors.New("snapshot.store.path is required for a local store")
		}
		return blobstore.NewLocalStore(sc.Path), nil
	case "s3":
		return openS3(ctx, sc)
	case "minio":
		store, err := minio.Dial(ctx, minio.Config{
			Endpoint:  sc.Endpoint,
			AccessKey: sc.AccessKey,
			SecretKey: sc.SecretKey,
			Bucket:    sc.Bucket,
			Prefix:    sc.Prefix,
			Secure:    sc.Secure,
			Region:    sc.Region,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown snapshot store type %q", sc.Type)
	}
}

func openS3(ctx context.Context, sc config.StoreConfig) (blobstore.BlobStore, error) {
	if sc.Bucket == "" {
		return nil, errors.New("snapshot.store.bucket is required for an s3 store")
	}
	optFns := []func(*s3.Options){s3.WithPrefix(sc.Prefix)}
	if sc.Region != "" {
		optFns = append(optFns, s3.WithRegion(sc.Region))
	}
	if sc.Endpoint != "" {
		optFns = append(optFns, s3.WithEndpoint(sc.Endpoint))
	}
	store, err := s3.New(ctx, sc.Bucket, optFns...)
	if err != nil {
		return nil, err
	}
	if sc.DynamoDBTable == "" {
		return store, nil
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if sc.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(sc.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	baseURI := "s3://" + sc.Bucket + "/" + sc.Prefix
	return s3.NewDDBCommitStore(store, dynamodb.NewFromConfig(awsCfg), sc.DynamoDBTable, baseURI), nil
}

// snapshotOptions applies the transfer settings of the config.
func (a *app) snapshotOptions() func(*snapshot.Options) {
	sc := a.cfg.Snapshot
	var ctrl *resource.Controller
	if sc.MaxConcurrentTransfers > 0 || sc.IOLimitBytesPerSec > 0 {
		ctrl = resource.NewController(resource.Config{
			MaxConcurrentTransfers: sc.MaxConcurrentTransfers,
			IOLimitBytesPerSec:     sc.IOLimitBytesPerSec,
		})
	}
	codec := a.cfg.SnapshotCodec()
	return func(o *snapshot.Options) {
		o.Codec = codec
		o.Concurrency = sc.Concurrency
		o.MaxRetries = sc.MaxRetries
		o.Controller = ctrl
	}
}
