package vision

const systemPrompt = "You are a medical data extraction expert. Extract clinical data accurately and provide confidence scores."

const extractionPrompt = `Analyze this medical document and extract ALL lab results and vital signs.

For LAB RESULTS, extract:
- Test name
- Numeric value
- Unit of measurement
- Reference range (if shown)
- Collection date/time
- Abnormal flags (H/L/N)

For VITAL SIGNS, extract:
- Parameter name (blood pressure, heart rate, temperature, respiratory rate, O2 saturation)
- Value
- Unit

For BLOOD PRESSURE specifically:
- Extract systolic and diastolic values separately

Return the data in this exact JSON format:
{
  "lab_results": [
    {"test_name": "Glucose", "value": 95, "unit": "mg/dL", "reference_range": "70-100", "date_collected": "2024-01-15", "abnormal_flag": "N", "confidence": 0.95}
  ],
  "vital_signs": [
    {"parameter": "heart_rate", "value": 72, "unit": "bpm", "confidence": 0.98}
  ],
  "blood_pressure": {"systolic": 120, "diastolic": 80, "unit": "mmHg", "confidence": 0.97}
}

IMPORTANT:
- Extract ALL visible data, not just the examples shown
- Use confidence scores between 0 and 1 based on clarity
- If a field is not visible, set it to null
- Return only the JSON object, no commentary`
