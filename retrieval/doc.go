// Package retrieval looks up knowledge base passages relevant to a question.
//
// A Retriever embeds the question through an Embedder and runs an approximate
// nearest neighbour query against a VectorStore, over-fetching candidates so
// the index can trade latency for recall. Populating the store is out of
// scope; MentorMesh only reads from it.
//
// Implementations:
//   - MemoryStore: brute-force cosine similarity, for development and tests
//   - pgvector.Store: PostgreSQL with the pgvector extension
package retrieval
