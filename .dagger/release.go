package main

import (
	"context"
	"fmt"
	"path"

	"dagger/engram/internal/dagger"
)

// bucket is an S3-compatible destination for release artifacts.
type bucket struct {
	endpoint        *dagger.Secret
	name            *dagger.Secret
	accessKeyID     *dagger.Secret
	secretAccessKey *dagger.Secret
}

// sync copies artifacts under prefix in the bucket with the AWS CLI.
func (b *bucket) sync(ctx context.Context, artifacts *dagger.Directory, prefix string) error {
	name, err := b.name.Plaintext(ctx)
	if err != nil {
		return fmt.Errorf("reading bucket name: %w", err)
	}
	endpoint, err := b.endpoint.Plaintext(ctx)
	if err != nil {
		return fmt.Errorf("reading bucket endpoint: %w", err)
	}

	_, err = dag.Container().
		From("amazon/aws-cli:latest").
		WithSecretVariable("AWS_ACCESS_KEY_ID", b.accessKeyID).
		WithSecretVariable("AWS_SECRET_ACCESS_KEY", b.secretAccessKey).
		WithEnvVariable("AWS_DEFAULT_REGION", "auto").
		WithDirectory("/artifacts", artifacts).
		WithWorkdir("/artifacts").
		WithExec([]string{
			"aws", "s3", "sync", ".",
			"s3://" + path.Join(name, prefix),
			"--endpoint-url", endpoint,
		}).
		Sync(ctx)
	if err != nil {
		return fmt.Errorf("uploading artifacts to %s: %w", prefix, err)
	}
	return nil
}

// publish builds release binaries stamped with version and uploads them
// under each prefix.
func (e *Engram) publish(ctx context.Context, version, commit string, b *bucket, prefixes ...string) (*dagger.Directory, error) {
	artifacts := e.BuildRelease(ctx, version, commit)
	for _, prefix := range prefixes {
		if err := b.sync(ctx, artifacts, prefix); err != nil {
			return artifacts, err
		}
	}
	return artifacts, nil
}

// ReleaseLatest builds release binaries and uploads them under both the
// version and the "latest" prefix
func (e *Engram) ReleaseLatest(
	ctx context.Context,

	// Version string (e.g., "v1.0.0")
	version string,

	// Git commit SHA
	commit string,

	// Bucket endpoint URL
	endpoint *dagger.Secret,

	// Bucket name
	bucketName *dagger.Secret,

	// Bucket access key ID
	accessKeyId *dagger.Secret,

	// Bucket secret access key
	secretAccessKey *dagger.Secret,
) (*dagger.Directory, error) {
	b := &bucket{endpoint: endpoint, name: bucketName, accessKeyID: accessKeyId, secretAccessKey: secretAccessKey}
	return e.publish(ctx, version, commit, b, version, "latest")
}

// Nightly builds and uploads nightly artifacts
func (e *Engram) Nightly(
	ctx context.Context,

	// Git commit SHA
	commit string,

	// Bucket endpoint URL
	endpoint *dagger.Secret,

	// Bucket name
	bucketName *dagger.Secret,

	// Bucket access key ID
	accessKeyId *dagger.Secret,

	// Bucket secret access key
	secretAccessKey *dagger.Secret,
) (*dagger.Directory, error) {
	b := &bucket{endpoint: endpoint, name: bucketName, accessKeyID: accessKeyId, secretAccessKey: secretAccessKey}
	return e.publish(ctx, "nightly", commit, b, "nightly")
}
