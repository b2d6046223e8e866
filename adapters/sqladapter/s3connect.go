package sqladapter

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds the parameters used to reach the audit bucket's endpoint,
// grounded on the teacher's aws_s3/connect.go Config - a static-credential,
// custom-endpoint client, the shape used to point at an S3-compatible
// on-prem store (e.g. minio) rather than AWS itself.
type S3Config struct {
	HostEndpointURL string
	Region          string
	Username        string
	Password        string
}

// ConnectS3 returns an *s3.Client configured against config, mirroring the
// teacher's aws_s3.Connect: a static credentials provider plus a custom
// base endpoint, suitable for NewAuditUploader.
func ConnectS3(config S3Config) *s3.Client {
	return s3.NewFromConfig(aws.Config{Region: config.Region}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(config.HostEndpointURL)
		o.Credentials = credentials.NewStaticCredentialsProvider(config.Username, config.Password, "")
	})
}
