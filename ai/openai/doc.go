// Package openai provides an ai.Embedder backed by OpenAI-compatible APIs.
//
// The embedder uses the langchaingo library to talk to OpenAI or any
// compatible service (Ollama, LocalAI, vLLM).
//
// # Usage
//
//	cfg := ai.DefaultConfig()
//	cfg.EmbeddingHost = "http://localhost:11434" // /v1 added automatically
//
//	embedder, err := openai.NewEmbedder(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	vectors, err := embedder.EmbedTexts(ctx, []string{"panic attacks", "insomnia"})
package openai
