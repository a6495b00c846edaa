package generation

import (
	"math/rand/v2"
)

// Node ids of the img2img graph. Links reference them as [id, output].
const (
	nodeSampler    = "3"
	nodePositive   = "6"
	nodeNegative   = "7"
	nodeDecode     = "8"
	nodeSave       = "9"
	nodeLoadImage  = "10"
	nodeEncode     = "12"
	nodeCheckpoint = "14"
)

// Node is one step of a backend workflow graph.
type Node struct {
	Inputs    map[string]interface{} `json:"inputs"`
	ClassType string                 `json:"class_type"`
	Meta      map[string]string      `json:"_meta,omitempty"`
}

// Workflow maps node ids to nodes.
type Workflow map[string]Node

// WorkflowParams are the knobs of the img2img graph.
type WorkflowParams struct {
	ImageRef   string
	Positive   string
	Negative   string
	Checkpoint string

	Seed      int64
	Steps     int
	CFG       float64
	Sampler   string
	Scheduler string
	Denoise   float64

	FilenamePrefix string
}

// DefaultWorkflowParams returns the sampler settings used for sketches.
// Seed is drawn at random.
func DefaultWorkflowParams() WorkflowParams {
	return WorkflowParams{
		Checkpoint:     DefaultCheckpoint,
		Seed:           rand.Int64N(1_000_000_000),
		Steps:          20,
		CFG:            8,
		Sampler:        "dpmpp_2m",
		Scheduler:      "normal",
		Denoise:        0.87,
		FilenamePrefix: "ComfyUI",
	}
}

func link(node string, output int) []interface{} {
	return []interface{}{node, output}
}

// BuildWorkflow assembles the graph: load checkpoint and sketch, encode
// the sketch to latent space, sample with both prompts, decode and save.
func BuildWorkflow(p WorkflowParams) Workflow {
	return Workflow{
		nodeSampler: {
			ClassType: "KSampler",
			Inputs: map[string]interface{}{
				"seed":         p.Seed,
				"steps":        p.Steps,
				"cfg":          p.CFG,
				"sampler_name": p.Sampler,
				"scheduler":    p.Scheduler,
				"denoise":      p.Denoise,
				"model":        link(nodeCheckpoint, 0),
				"positive":     link(nodePositive, 0),
				"negative":     link(nodeNegative, 0),
				"latent_image": link(nodeEncode, 0),
			},
			Meta: map[string]string{"title": "KSampler"},
		},
		nodePositive: {
			ClassType: "CLIPTextEncode",
			Inputs: map[string]interface{}{
				"text": p.Positive,
				"clip": link(nodeCheckpoint, 1),
			},
			Meta: map[string]string{"title": "CLIP Text Encode (Positive)"},
		},
		nodeNegative: {
			ClassType: "CLIPTextEncode",
			Inputs: map[string]interface{}{
				"text": p.Negative,
				"clip": link(nodeCheckpoint, 1),
			},
			Meta: map[string]string{"title": "CLIP Text Encode (Negative)"},
		},
		nodeDecode: {
			ClassType: "VAEDecode",
			Inputs: map[string]interface{}{
				"samples": link(nodeSampler, 0),
				"vae":     link(nodeCheckpoint, 2),
			},
			Meta: map[string]string{"title": "VAE Decode"},
		},
		nodeSave: {
			ClassType: "SaveImage",
			Inputs: map[string]interface{}{
				"filename_prefix": p.FilenamePrefix,
				"images":          link(nodeDecode, 0),
			},
			Meta: map[string]string{"title": "Save Image"},
		},
		nodeLoadImage: {
			ClassType: "LoadImage",
			Inputs: map[string]interface{}{
				"image":  p.ImageRef,
				"upload": "image",
			},
			Meta: map[string]string{"title": "Load Image"},
		},
		nodeEncode: {
			ClassType: "VAEEncode",
			Inputs: map[string]interface{}{
				"pixels": link(nodeLoadImage, 0),
				"vae":    link(nodeCheckpoint, 2),
			},
			Meta: map[string]string{"title": "VAE Encode"},
		},
		nodeCheckpoint: {
			ClassType: "CheckpointLoaderSimple",
			Inputs: map[string]interface{}{
				"ckpt_name": p.Checkpoint,
			},
			Meta: map[string]string{"title": "Load Checkpoint"},
		},
	}
}
