// Package sdruntime drives a remote PhotoMaker diffusion pipeline.
//
// The diffusion model itself runs in a separate worker process. This package
// owns everything on the Go side of that boundary:
//
//   - Atoms: pure helpers (ValidateParams, ValidatePrompt, ValidateTriggerWord,
//     StartMergeStep, RandomSeed, IsPNG)
//   - Molecules: WordTokenizer and HFTokenizer, PipelineClient (HTTP), SlotPool
//   - Organism: the Pipeline interface consumed by imagegen
//
// # Quick Start
//
//	client := sdruntime.NewPipelineClient(sdruntime.PipelineConfig{
//	    BaseURL:     "http://127.0.0.1:7861",
//	    TriggerWord: "img",
//	})
//	pool, err := sdruntime.NewSlotPool(client, 1)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	params := sdruntime.DefaultParams()
//	params.Prompt = "cinematic photo a man img wearing a hat"
//	params.Seed = sdruntime.RandomSeed()
//	params.IDEmbedding = embedding
//	params.InputImages = []image.Image{photo}
//	images, err := pool.Generate(ctx, params)
//
// # Trigger word
//
// The pipeline binds the identity embedding to the single token of the
// trigger word ("img" by default). ValidateTriggerWord rejects prompts where
// that token is absent or repeated. Tokenization uses the pipeline's own
// tokenizer.json when built with -tags tokenizers (requires libtokenizers),
// and a word tokenizer otherwise.
//
// # Error Handling
//
//   - ErrInvalidPrompt, ErrInvalidParams: rejected before any network call
//   - ErrTriggerWordMissing, ErrTriggerWordDuplicated: see TriggerWordError
//   - ErrGenerationFailed: worker answered with an error or bad images
//   - ErrGenerationTimeout: worker or context deadline exceeded
//   - ErrWorkerUnavailable: connection refused or 503
//   - ErrPoolClosed, ErrAcquireTimeout: slot pool
//
// # Thread Safety
//
// PipelineClient and SlotPool are safe for concurrent use.
package sdruntime
