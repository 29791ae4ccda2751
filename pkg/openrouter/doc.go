// Package openrouter implements a client for the OpenRouter chat
// completions API.
//
// Each Client is bound to a single API key and owns one pooled HTTP
// connection to the upstream. It supports:
//
//   - One-shot chat completions
//   - Streaming responses (Server-Sent Events)
//   - A typed error taxonomy for upstream failures
//
// # Basic Usage
//
//	client, err := openrouter.NewClient(openrouter.ClientConfig{
//	    APIKey: os.Getenv("OPENROUTER_API_KEY"),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.Open(); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	resp, err := client.Complete(ctx, &openrouter.ChatCompletionRequest{
//	    Model:    "deepseek/deepseek-chat-v3-0324:free",
//	    Messages: []openrouter.ChatMessage{openrouter.TextMessage(openrouter.RoleUser, "Hello!")},
//	})
//
// # Streaming
//
//	stream, err := client.Stream(ctx, req)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stream.Close()
//
//	for {
//	    chunk, err := stream.Recv(ctx)
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Print(chunk.Choices[0].Delta.Content)
//	}
//
// # Error Handling
//
// HTTP status codes map to typed errors, each carrying the status code
// and any structured error details the upstream returned:
//
//   - 401 -> AuthenticationError
//   - 402 -> InsufficientCreditsError
//   - 403 -> PermissionError
//   - 429 -> RateLimitError
//   - 400 -> InvalidRequestError
//   - 5xx -> ServerError
//   - other 4xx/5xx -> APIError
//
// Transport failures are reported as TimeoutError or NetworkError, and
// local encode/decode failures as RequestError or DecodeError. The two
// groups never overlap: a DecodeError means a contract bug, not an
// upstream condition.
package openrouter
