package gemini

// NoAnswerMarker is the reply the model is told to give when the question
// is outside the subject or it does not know the answer.
const NoAnswerMarker = "SIN_RESPUESTA"

// AnswerInstructionSuffix is appended to the configured system instruction.
const AnswerInstructionSuffix = `

Reglas:
- Responde en un máximo de tres frases, sin saludos ni despedidas.
- Si se proporcionan preguntas y respuestas de referencia, básate en ellas.
- Si la pregunta no trata sobre la asignatura, o no conoces la respuesta, responde exactamente ` + NoAnswerMarker + `.`

// ReferenceHeader introduces the knowledge base entries related to the
// question.
const ReferenceHeader = "Preguntas y respuestas de referencia de la asignatura:\n\n"

// QuestionHeader introduces the student's question.
const QuestionHeader = "Pregunta del alumno: "
