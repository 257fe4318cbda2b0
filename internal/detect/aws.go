package detect

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/civiclab/sopn/internal/geometry"
)

// TextractClient implements Client against the AWS Textract API.
type TextractClient struct {
	api *textract.Client
}

// NewTextractClient builds a client from the default AWS credential
// chain.
func NewTextractClient(ctx context.Context, region string) (*TextractClient, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &TextractClient{api: textract.NewFromConfig(cfg)}, nil
}

// StartAnalysis submits an asynchronous document analysis with table
// detection enabled and returns the service job ID.
func (c *TextractClient) StartAnalysis(ctx context.Context, doc S3Object) (string, error) {
	out, err := c.api.StartDocumentAnalysis(ctx, &textract.StartDocumentAnalysisInput{
		DocumentLocation: &types.DocumentLocation{
			S3Object: &types.S3Object{
				Bucket: aws.String(doc.Bucket),
				Name:   aws.String(doc.Key),
			},
		},
		FeatureTypes: []types.FeatureType{types.FeatureTypeTables},
	})
	if err != nil {
		return "", fmt.Errorf("start document analysis: %w", err)
	}
	return aws.ToString(out.JobId), nil
}

// GetAnalysis fetches one page of the analysis result. An empty
// nextToken fetches the first page.
func (c *TextractClient) GetAnalysis(ctx context.Context, jobID, nextToken string) (*AnalysisPage, error) {
	in := &textract.GetDocumentAnalysisInput{JobId: aws.String(jobID)}
	if nextToken != "" {
		in.NextToken = aws.String(nextToken)
	}
	out, err := c.api.GetDocumentAnalysis(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("get document analysis: %w", err)
	}
	return &AnalysisPage{
		Status:    Status(out.JobStatus),
		Message:   aws.ToString(out.StatusMessage),
		Blocks:    convertBlocks(out.Blocks),
		NextToken: aws.ToString(out.NextToken),
	}, nil
}

func convertBlocks(in []types.Block) []geometry.Block {
	if len(in) == 0 {
		return nil
	}
	out := make([]geometry.Block, 0, len(in))
	for _, b := range in {
		out = append(out, convertBlock(b))
	}
	return out
}

func convertBlock(b types.Block) geometry.Block {
	blk := geometry.Block{
		BlockType:  string(b.BlockType),
		Confidence: float64(aws.ToFloat32(b.Confidence)),
		Text:       aws.ToString(b.Text),
		ID:         aws.ToString(b.Id),
		Page:       int(aws.ToInt32(b.Page)),
	}
	if g := b.Geometry; g != nil {
		if bb := g.BoundingBox; bb != nil {
			blk.Geometry.BoundingBox = geometry.BoundingBox{
				Width:  float64(bb.Width),
				Height: float64(bb.Height),
				Left:   float64(bb.Left),
				Top:    float64(bb.Top),
			}
		}
		for _, p := range g.Polygon {
			blk.Geometry.Polygon = append(blk.Geometry.Polygon, geometry.Point{
				X: float64(p.X),
				Y: float64(p.Y),
			})
		}
	}
	for _, r := range b.Relationships {
		blk.Relationships = append(blk.Relationships, geometry.Relationship{
			Type: string(r.Type),
			IDs:  r.Ids,
		})
	}
	return blk
}
